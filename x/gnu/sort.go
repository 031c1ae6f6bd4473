// Package gnu orders version strings the way GNU sort -V and dpkg do.
//
// Recipe versions are opaque strings ("3.3.2", "1.3.243.0",
// "cci.20231120"), so ordering compares alternating non-digit and digit runs
// rather than assuming semantic versioning.
package gnu

/* Compare file names containing version numbers.

   Copyright (C) 1995 Ian Jackson <iwj10@cus.cam.ac.uk>
   Copyright (C) 2001 Anthony Towns <aj@azure.humbug.org.au>
   Copyright (C) 2008-2025 Free Software Foundation, Inc.

   This file is free software: you can redistribute it and/or modify
   it under the terms of the GNU Lesser General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This file is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Lesser General Public License for more details.

   You should have received a copy of the GNU Lesser General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.  */

import "slices"

// Compare returns a negative value if a sorts before b, a positive value if
// a sorts after b and zero when both are equivalent ("1.01" == "1.1").
func Compare(a, b string) int {
	x, y := []byte(a), []byte(b)
	i, j := 0, 0

	for i < len(x) || j < len(y) {
		// Non-digit run: compared character by character with order().
		for (i < len(x) && !isDigit(x[i])) || (j < len(y) && !isDigit(y[j])) {
			var cx, cy byte
			if i < len(x) {
				cx = x[i]
			}
			if j < len(y) {
				cy = y[j]
			}
			if ox, oy := order(cx), order(cy); ox != oy {
				return ox - oy
			}
			i++
			j++
		}

		for i < len(x) && x[i] == '0' {
			i++
		}
		for j < len(y) && y[j] == '0' {
			j++
		}

		// Digit run: the longer number wins, otherwise the first differing digit.
		diff := 0
		for i < len(x) && j < len(y) && isDigit(x[i]) && isDigit(y[j]) {
			if diff == 0 {
				diff = int(x[i]) - int(y[j])
			}
			i++
			j++
		}
		if i < len(x) && isDigit(x[i]) {
			return 1
		}
		if j < len(y) && isDigit(y[j]) {
			return -1
		}
		if diff != 0 {
			return diff
		}
	}
	return 0
}

// Sort sorts versions in ascending order.
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}

// Max returns the highest of versions, or "" when versions is empty.
func Max(versions ...string) string {
	if len(versions) == 0 {
		return ""
	}
	return slices.MaxFunc(versions, Compare)
}

// order returns the sorting weight of c: digits and NUL weigh 0, letters
// their ASCII value, '~' sorts before everything and other punctuation
// after all letters.
func order(c byte) int {
	switch {
	case isDigit(c), c == 0:
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
