package processors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// RelNotFound receives lookups the dictionary server had no match for.
const RelNotFound streamsync.Relationship = "not.found"

// Attributes set by LookupDefinition.
const (
	AttrDictWord        = "dict.word"
	AttrDictDatabase    = "dict.database"
	AttrDictDefinitions = "dict.definitions"
	AttrDictError       = "dict.error"
)

// DICT response codes (RFC 2229).
const (
	codeBanner          = 220
	codeDefinitionCount = 150
	codeDefinition      = 151
	codeOK              = 250
	codeNoMatch         = 552
)

// maxDefinitionHint caps preallocation from the server-reported count.
const maxDefinitionHint = 64

var errNoMatch = errors.New("no match")

// LookupDefinition treats the FlowFile content as a word and looks it up on a
// DICT server (RFC 2229). Definitions replace the content, separated by blank
// lines.
//
// Properties:
//   - address: host:port of the server (required)
//   - database: database to search (default "*", all databases)
//   - timeout: deadline for the whole exchange (default 15s)
//
// Unknown words go to not.found. Protocol and network errors go to failure
// with a dict.error attribute.
type LookupDefinition struct {
	dialer net.Dialer
}

// NewLookupDefinition creates a LookupDefinition processor.
func NewLookupDefinition() streamsync.Processor {
	return &LookupDefinition{}
}

// Name implements streamsync.Processor.
func (l *LookupDefinition) Name() string { return "LookupDefinition" }

// Relationships implements streamsync.Declarer.
func (l *LookupDefinition) Relationships() (inputs, outputs []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn},
		[]streamsync.Relationship{streamsync.RelSuccess, RelNotFound, streamsync.RelFailure}
}

// OnTrigger implements streamsync.Processor.
func (l *LookupDefinition) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	addr, err := ctx.Config().RequireProperty("address")
	if err != nil {
		return err
	}
	db := stringProperty(ctx, "database", "*")
	timeout, err := durationProperty(ctx, "timeout", defaultNetworkTimeout)
	if err != nil {
		return err
	}

	ff, ok := s.Get(streamsync.RelIn)
	if !ok {
		return streamsync.ErrNoWork
	}
	word := strings.TrimSpace(string(ff.Content()))
	ff = ff.WithAttributes(map[string]string{AttrDictWord: word, AttrDictDatabase: db})

	if word == "" || strings.ContainsAny(word, "\r\n") {
		return s.Transfer(ff.WithAttribute(AttrDictError, "invalid word"), streamsync.RelFailure)
	}

	defs, err := l.define(ctx, addr, db, word, timeout)
	switch {
	case errors.Is(err, errNoMatch):
		return s.Transfer(ff, RelNotFound)
	case err != nil:
		ctx.Logger().Warn("dict lookup failed", "address", addr, "word", word, "error", err)
		return s.Transfer(ff.WithAttribute(AttrDictError, err.Error()), streamsync.RelFailure)
	}

	out := ff.
		WithContent([]byte(strings.Join(defs, "\n\n"))).
		WithAttribute(AttrDictDefinitions, strconv.Itoa(len(defs)))
	return s.Transfer(out, streamsync.RelSuccess)
}

func (l *LookupDefinition) define(ctx context.Context, addr, db, word string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nc, err := l.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := nc.SetDeadline(deadline); err != nil {
			nc.Close()
			return nil, err
		}
	}
	conn := textproto.NewConn(nc)
	defer conn.Close()

	if _, _, err := conn.ReadCodeLine(codeBanner); err != nil {
		return nil, fmt.Errorf("banner: %w", err)
	}
	defs, err := readDefinitions(conn, db, word)
	if err == nil || errors.Is(err, errNoMatch) {
		// The server closes the connection after QUIT; its reply is not needed.
		_, _ = conn.Cmd("QUIT")
	}
	return defs, err
}

func readDefinitions(conn *textproto.Conn, db, word string) ([]string, error) {
	id, err := conn.Cmd("DEFINE %s %s", db, quoteWord(word))
	if err != nil {
		return nil, err
	}
	conn.StartResponse(id)
	defer conn.EndResponse(id)

	code, msg, err := conn.ReadCodeLine(codeDefinitionCount)
	if err != nil {
		if code == codeNoMatch {
			return nil, errNoMatch
		}
		return nil, fmt.Errorf("define: %w", err)
	}
	n, _ := strconv.Atoi(strings.Fields(msg + " 0")[0])

	defs := make([]string, 0, min(max(n, 0), maxDefinitionHint))
	for {
		code, _, err := conn.ReadCodeLine(0)
		if err != nil {
			return nil, fmt.Errorf("define: %w", err)
		}
		switch code {
		case codeDefinition:
			lines, err := conn.ReadDotLines()
			if err != nil {
				return nil, fmt.Errorf("definition body: %w", err)
			}
			defs = append(defs, strings.Join(lines, "\n"))
		case codeOK:
			return defs, nil
		default:
			return nil, fmt.Errorf("define: unexpected response %d", code)
		}
	}
}

// quoteWord wraps words containing spaces or quotes in double quotes.
func quoteWord(word string) string {
	if !strings.ContainsAny(word, " \t\"'") {
		return word
	}
	return strconv.Quote(word)
}
