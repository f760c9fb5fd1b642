package storage

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TupleFormatter renders one live tuple of a dumped page.
type TupleFormatter func(tup []byte) string

// DebugOptions tune Page.Debug. A nil Format prints tuple lengths only.
type DebugOptions struct {
	Owner  string
	Format TupleFormatter
}

func slotState(flags uint16) string {
	switch flags {
	case SlotFlagNormal:
		return "live"
	case SlotFlagDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("flags(0x%04x)", flags)
	}
}

// Debug writes the page header followed by its slot directory.
func (p *Page) Debug(w io.Writer, opts DebugOptions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "page\t%d\n", p.PageID())
	fmt.Fprintf(tw, "type\t%s\n", p.Type())
	if opts.Owner != "" {
		fmt.Fprintf(tw, "owner\t%s\n", opts.Owner)
	}
	fmt.Fprintf(tw, "next\t%d\n", p.Next())
	fmt.Fprintf(tw, "slots\t%d\n", p.NumSlots())
	fmt.Fprintf(tw, "free\t%d bytes, %d reclaimable\n", p.FreeSpace(), p.reclaimable())
	if err := tw.Flush(); err != nil {
		return err
	}
	if p.NumSlots() == 0 {
		return nil
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "slot\tstate\toffset\tlength\ttuple")
	for i := range p.NumSlots() {
		s, err := p.getSlot(i)
		if err != nil {
			fmt.Fprintf(tw, "%d\tbad\t-\t-\t%v\n", i, err)
			continue
		}
		desc := ""
		if s.Flags == SlotFlagNormal && s.Length > 0 {
			tup, err := p.ReadTuple(i)
			switch {
			case err != nil:
				desc = err.Error()
			case opts.Format != nil:
				desc = opts.Format(tup)
			default:
				desc = fmt.Sprintf("%d bytes", len(tup))
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", i, slotState(s.Flags), s.Offset, s.Length, desc)
	}
	return tw.Flush()
}
