package core

import (
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Scan Options
// --------------------------------------------------------------------------

const (
	scanDefaultLimit = 10
	scanMaxLimit     = 4096
)

// ScanOpts holds the parsed options of an iteration-style command: an
// optional glob pattern, a result-count limit, a type filter and a bucket
// cursor.
type ScanOpts struct {
	Pattern    string
	Limit      int
	TypeFilter string
	BucketID   uint
}

// ParseScanOpts parses option/value argument pairs (COUNT n, MATCH glob,
// TYPE name, BUCKET id). Invalid input yields a failure status, never a
// partially filled result.
func ParseScanOpts(args []string) OpResult[ScanOpts] {
	opts := ScanOpts{Limit: scanDefaultLimit, BucketID: math.MaxUint}

	for i := 0; i < len(args); i += 2 {
		opt := strings.ToUpper(args[i])
		if i+1 == len(args) {
			return ResultStatus[ScanOpts](StatusSyntaxErr)
		}

		switch opt {
		case "COUNT":
			limit, err := strconv.Atoi(args[i+1])
			if err != nil || limit < 0 {
				return ResultStatus[ScanOpts](StatusInvalidInt)
			}
			if limit == 0 {
				limit = 1
			} else if limit > scanMaxLimit {
				limit = scanMaxLimit
			}
			opts.Limit = limit
		case "MATCH":
			opts.Pattern = args[i+1]
			if opts.Pattern == "*" {
				opts.Pattern = ""
			}
		case "TYPE":
			opts.TypeFilter = strings.ToLower(args[i+1])
		case "BUCKET":
			id, err := strconv.ParseUint(args[i+1], 10, 64)
			if err != nil {
				return ResultStatus[ScanOpts](StatusInvalidInt)
			}
			opts.BucketID = uint(id)
		default:
			return ResultStatus[ScanOpts](StatusSyntaxErr)
		}
	}
	return ResultOf(opts)
}

// Matches reports whether name passes the pattern filter. An empty pattern
// matches everything.
func (o ScanOpts) Matches(name string) bool {
	if o.Pattern == "" {
		return true
	}
	return GlobMatch(o.Pattern, name)
}

// --------------------------------------------------------------------------
// Glob Matching
// --------------------------------------------------------------------------

// GlobMatch matches s against a glob pattern supporting '*', '?', character
// classes ('[a-z]', '[^ab]') and '\' escapes.
func GlobMatch(pattern, s string) bool {
	return globMatch(pattern, s)
}

func globMatch(p, s string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			// collapse consecutive stars
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(p, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		case '[':
			if len(s) == 0 {
				return false
			}
			rest, ok := matchClass(p, s[0])
			if !ok {
				return false
			}
			p, s = rest, s[1:]
		case '\\':
			if len(p) >= 2 {
				p = p[1:]
			}
			fallthrough
		default:
			if len(s) == 0 || p[0] != s[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

// matchClass matches c against the character class at the start of p and
// returns the pattern remainder after the closing bracket.
func matchClass(p string, c byte) (rest string, ok bool) {
	p = p[1:] // consume '['
	negate := false
	if len(p) > 0 && p[0] == '^' {
		negate = true
		p = p[1:]
	}

	matched := false
	first := true
	for len(p) > 0 && (p[0] != ']' || first) {
		first = false
		if p[0] == '\\' && len(p) >= 2 {
			p = p[1:]
		}
		if len(p) >= 3 && p[1] == '-' && p[2] != ']' {
			lo, hi := p[0], p[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			p = p[3:]
			continue
		}
		if p[0] == c {
			matched = true
		}
		p = p[1:]
	}
	if len(p) == 0 {
		return "", false // unterminated class
	}
	p = p[1:] // consume ']'

	if negate {
		matched = !matched
	}
	return p, matched
}
