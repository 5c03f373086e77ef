package gitobj

import (
	"strconv"
	"strings"
	"time"
)

// Signature is a commit author or committer line.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a decoded commit object. Only first-parent is tracked
// explicitly (Parents[0]); the full parent list is retained for callers
// that need merge awareness.
type Commit struct {
	Tree    OID
	Parents []OID
	Author  Signature
	Message string
}

// ParseCommit decodes a commit payload per the header-lines/blank-line/
// message layout in §3. Unknown header lines are ignored.
func ParseCommit(payload []byte) (Commit, bool) {
	text := string(payload)
	lines := strings.Split(text, "\n")

	var c Commit
	inHeaders := true
	var msgLines []string

	for _, line := range lines {
		if inHeaders {
			if line == "" {
				inHeaders = false
				continue
			}
			switch {
			case strings.HasPrefix(line, "tree "):
				c.Tree = OID(strings.TrimPrefix(line, "tree "))
			case strings.HasPrefix(line, "parent "):
				c.Parents = append(c.Parents, OID(strings.TrimPrefix(line, "parent ")))
			case strings.HasPrefix(line, "author "):
				c.Author = parseSignature(strings.TrimPrefix(line, "author "))
			}
		} else {
			msgLines = append(msgLines, line)
		}
	}
	c.Message = strings.Join(msgLines, "\n")
	if c.Tree == "" {
		return Commit{}, false
	}
	return c, true
}

// parseSignature splits "<name> <email> <unix-ts> <tz>" the way the
// original handler does: split on the last '>' to separate name/email from
// the timestamp/timezone tail.
func parseSignature(s string) Signature {
	idx := strings.LastIndexByte(s, '>')
	if idx < 0 {
		return Signature{}
	}
	nameEmail := s[:idx+1]
	rest := strings.TrimSpace(s[idx+1:])

	var name, email string
	if lt := strings.IndexByte(nameEmail, '<'); lt >= 0 {
		name = strings.TrimSpace(nameEmail[:lt])
		email = strings.TrimSuffix(strings.TrimSpace(nameEmail[lt+1:]), ">")
	}

	var when time.Time
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		if ts, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			when = time.Unix(ts, 0).UTC()
		}
	}
	return Signature{Name: name, Email: email, When: when}
}

// Parent returns the first parent OID, or "" for a root commit.
func (c Commit) Parent() OID {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

// Title is the first line of the commit message.
func (c Commit) Title() string {
	if i := strings.IndexByte(c.Message, '\n'); i >= 0 {
		return c.Message[:i]
	}
	return c.Message
}
