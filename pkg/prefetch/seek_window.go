package prefetch

// seekWindow retains the most recently consumed bytes so a short backward
// seek can be served without a new range GET. Segments are kept in offset
// order and the last byte always sits at the request's consumer offset.
type seekWindow struct {
	max  uint64
	segs [][]byte
	size uint64
}

func (w *seekWindow) push(b []byte) {
	if w.max == 0 || len(b) == 0 {
		return
	}
	if uint64(len(b)) >= w.max {
		w.clear()
		b = b[uint64(len(b))-w.max:]
	}
	w.segs = append(w.segs, b)
	w.size += uint64(len(b))

	for w.size > w.max {
		head := w.segs[0]
		excess := w.size - w.max
		if uint64(len(head)) <= excess {
			w.segs[0] = nil
			w.segs = w.segs[1:]
			w.size -= uint64(len(head))
			continue
		}
		w.segs[0] = head[excess:]
		w.size -= excess
	}
}

// readBack removes the last n bytes and returns them in offset order.
// n must not exceed len().
func (w *seekWindow) readBack(n uint64) [][]byte {
	var out [][]byte
	for n > 0 && len(w.segs) > 0 {
		i := len(w.segs) - 1
		last := w.segs[i]
		if uint64(len(last)) <= n {
			out = append(out, last)
			w.segs[i] = nil
			w.segs = w.segs[:i]
			w.size -= uint64(len(last))
			n -= uint64(len(last))
			continue
		}
		cut := uint64(len(last)) - n
		out = append(out, last[cut:])
		w.segs[i] = last[:cut:cut]
		w.size -= n
		n = 0
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (w *seekWindow) len() uint64 { return w.size }

func (w *seekWindow) clear() {
	w.segs = nil
	w.size = 0
}
