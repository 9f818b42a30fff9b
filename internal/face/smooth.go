package face

// SmoothingWindow is the number of consecutive boxes averaged per frame.
const SmoothingWindow = 5

// Smooth replaces every box with the mean of the raw boxes in a forward
// window of SmoothingWindow entries. Windows that would run past the end use
// the final SmoothingWindow boxes instead, and a sequence shorter than the
// window collapses to its overall mean. Means are truncated toward zero.
//
// Every window reads the raw input, never an already smoothed value.
func Smooth(boxes []Box) []Box {
	n := len(boxes)
	out := make([]Box, n)
	for i := range n {
		start := i
		if i+SmoothingWindow > n {
			start = max(n-SmoothingWindow, 0)
		}
		end := min(start+SmoothingWindow, n)
		out[i] = mean(boxes[start:end])
	}
	return out
}

func mean(boxes []Box) Box {
	var x1, y1, x2, y2 int
	for _, b := range boxes {
		x1 += b.X1
		y1 += b.Y1
		x2 += b.X2
		y2 += b.Y2
	}
	n := len(boxes)
	return Box{X1: x1 / n, Y1: y1 / n, X2: x2 / n, Y2: y2 / n}
}
