package index_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/xref/internal/index"
	"github.com/standardbeagle/xref/internal/types"
)

const (
	declProcessor index.ProcessorID = "test.decl"
	refsProcessor index.ProcessorID = "test.refs"
)

var errScripted = errors.New("scripted failure")

// line is one statement of the test source format:
//
//	def NAME         declares NAME
//	in PARENT NAME   declares NAME inside PARENT
//	use NAME         references NAME
//	fail             makes the declarations processor fail
//	panic            makes the declarations processor panic
//	bad              writes into a layer the processor does not contribute
type line struct {
	verb   string
	args   []string
	offset int // of the last argument
}

func parseLines(content []byte) []line {
	var out []line
	offset := 0
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		text := sc.Text()
		fields := strings.Fields(text)
		if len(fields) > 0 {
			l := line{verb: fields[0], args: fields[1:]}
			if len(l.args) > 0 {
				l.offset = offset + strings.LastIndex(text, l.args[len(l.args)-1])
			}
			out = append(out, l)
		}
		offset += len(text) + 1
	}
	return out
}

func declLoc(r types.Resource, name string, offset int) types.Location {
	return types.Location{Element: types.Element{Resource: r, Name: name}, Kind: "def", Offset: offset, Length: len(name)}
}

func useLoc(r types.Resource, name string, offset int) types.Location {
	return types.Location{Element: types.Element{Resource: r, Name: name}, Kind: "use", Offset: offset, Length: len(name)}
}

// counters is shared by the processors of one configuration.
type counters struct {
	created    atomic.Int32
	ended      atomic.Int32
	endErr     error
	parseNanos atomic.Int64
}

type declarations struct {
	c *counters
}

func (p *declarations) Initialize(ic index.InitContext) error { return nil }

func (p *declarations) Process(ctx context.Context, target index.Target, u *index.Updater) error {
	content, err := target.Content(ctx)
	if err != nil {
		return err
	}
	p.c.parseNanos.Add(int64(time.Millisecond))
	r := target.Resource()
	decls := make(map[string]types.Location)
	for _, l := range parseLines(content) {
		switch l.verb {
		case "def", "in":
			name := l.args[len(l.args)-1]
			loc := declLoc(r, name, l.offset)
			decls[name] = loc
			if err := u.Relate(ctx, index.LayerDeclarations, loc, types.NameLocation(name)); err != nil {
				return err
			}
			if l.verb == "in" {
				if err := u.Relate(ctx, index.LayerContains, decls[l.args[0]], loc); err != nil {
					return err
				}
			}
			info, err := u.ReadLocationInfo(ctx, index.LayerUnresolved, types.NameLocation(name))
			if err != nil {
				return err
			}
			for _, src := range info.LocationsAffectedByRemovalOfSelf() {
				u.RequestReindex(src.Resource)
			}
		case "fail":
			return errScripted
		case "panic":
			panic("scripted panic")
		case "bad":
			return u.Relate(ctx, index.LayerReferences, declLoc(r, "x", 0), types.NameLocation("x"))
		}
	}
	return nil
}

func (p *declarations) TransactionEnded() error {
	p.c.ended.Add(1)
	return p.c.endErr
}

func (p *declarations) TakeParseTime() time.Duration {
	return time.Duration(p.c.parseNanos.Swap(0))
}

type references struct {
	decl index.Processor
}

func (p *references) Initialize(ic index.InitContext) error {
	p.decl = ic.Uses[declProcessor]
	if p.decl == nil {
		return errors.New("declarations processor not wired")
	}
	return nil
}

func (p *references) Process(ctx context.Context, target index.Target, u *index.Updater) error {
	content, err := target.Content(ctx)
	if err != nil {
		return err
	}
	r := target.Resource()
	for _, l := range parseLines(content) {
		if l.verb != "use" {
			continue
		}
		name := l.args[0]
		src := useLoc(r, name, l.offset)
		decls, err := u.Declarations(ctx, name)
		if err != nil {
			return err
		}
		if len(decls) == 0 {
			if err := u.Relate(ctx, index.LayerUnresolved, src, types.NameLocation(name)); err != nil {
				return err
			}
			continue
		}
		for _, d := range decls {
			if err := u.Relate(ctx, index.LayerReferences, src, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *references) TransactionEnded() error      { return nil }
func (p *references) TakeParseTime() time.Duration { return 0 }

func testRegistrations(c *counters) []index.Registration {
	return []index.Registration{
		{
			Info:        index.ProcessorInfo{ID: refsProcessor, Version: 1, Extensions: []string{".t"}, Uses: []index.ProcessorID{declProcessor}},
			Contributes: []types.LayerID{index.LayerReferences, index.LayerUnresolved},
			Factory: func() index.Processor {
				c.created.Add(1)
				return &references{}
			},
		},
		{
			Info:        index.ProcessorInfo{ID: declProcessor, Version: 1, Extensions: []string{".t", ".T2"}},
			Contributes: []types.LayerID{index.LayerDeclarations, index.LayerContains},
			Factory: func() index.Processor {
				c.created.Add(1)
				return &declarations{c: c}
			},
		},
	}
}
