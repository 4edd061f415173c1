package shell

type escAction uint8

const (
	escNone escAction = iota
	escUp
	escDown
	escRight
	escLeft
	escDelete
	escHome
	escEnd
)

// parseEscape decodes the sequence at the start of b. consumed is 0 when
// b holds only a prefix of a sequence.
func parseEscape(b []byte) (consumed int, action escAction) {
	if len(b) < 2 || b[0] != 0x1b {
		return 0, escNone
	}
	if b[1] != '[' && b[1] != 'O' {
		return 2, escNone
	}
	if len(b) < 3 {
		return 0, escNone
	}
	switch b[2] {
	case 'A':
		return 3, escUp
	case 'B':
		return 3, escDown
	case 'C':
		return 3, escRight
	case 'D':
		return 3, escLeft
	case 'H':
		return 3, escHome
	case 'F':
		return 3, escEnd
	}
	if b[1] == 'O' {
		return 3, escNone
	}

	n := consumeEscape(b)
	if n == 0 {
		return 0, escNone
	}
	// CSI <n> ~
	if b[n-1] == '~' && n == 4 {
		switch b[2] {
		case '1', '7':
			return n, escHome
		case '3':
			return n, escDelete
		case '4', '8':
			return n, escEnd
		}
	}
	return n, escNone
}

// consumeEscape returns the length of the CSI sequence at the start of b,
// or 0 if it is not terminated yet.
func consumeEscape(b []byte) int {
	if len(b) < 2 || b[0] != 0x1b {
		return 0
	}
	if b[1] != '[' {
		return 2
	}
	for i := 2; i < len(b); i++ {
		if b[i] >= 0x40 && b[i] <= 0x7e {
			return i + 1
		}
	}
	return 0
}
