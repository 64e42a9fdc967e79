package resp

import (
	"bufio"
	"fmt"

	"github.com/protorelay/protorelay/internal/message"
)

// Encode implements codec.Encoder. If m.Modified is true it serializes
// m.Details from scratch; otherwise it writes m.Raw back out unchanged,
// per the Message invariant.
func (Codec) Encode(w *bufio.Writer, m *message.Message) error {
	if !m.Modified {
		_, err := w.Write(m.Raw)
		return err
	}
	f, ok := m.Details.(*Frame)
	if !ok {
		return fmt.Errorf("resp: modified message has non-RESP details %T", m.Details)
	}
	return encodeFrame(w, f)
}

func encodeFrame(w *bufio.Writer, f *Frame) error {
	switch f.Kind {
	case KindSimpleString:
		_, err := fmt.Fprintf(w, "+%s\r\n", f.Str)
		return err
	case KindError:
		_, err := fmt.Fprintf(w, "-%s\r\n", f.Str)
		return err
	case KindInteger:
		_, err := fmt.Fprintf(w, ":%d\r\n", f.Int)
		return err
	case KindBulkString:
		if f.Bulk == nil {
			_, err := w.WriteString("$-1\r\n")
			return err
		}
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(f.Bulk)); err != nil {
			return err
		}
		if _, err := w.Write(f.Bulk); err != nil {
			return err
		}
		_, err := w.WriteString("\r\n")
		return err
	case KindArray:
		if f.Elements == nil {
			_, err := w.WriteString("*-1\r\n")
			return err
		}
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(f.Elements)); err != nil {
			return err
		}
		for _, e := range f.Elements {
			if err := encodeFrame(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp: cannot encode frame kind %d", f.Kind)
	}
}
