package md

type RingBuffer[T any] struct {
	values []T
	size   int
	index  int
	filled bool
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{
		values: make([]T, size),
		size:   size,
	}
}

func (r *RingBuffer[T]) Add(value T) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer[T]) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

// Values returns the buffered items oldest first.
func (r *RingBuffer[T]) Values() []T {
	length := r.Len()
	result := make([]T, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Last returns up to n of the newest items, oldest first.
func (r *RingBuffer[T]) Last(n int) []T {
	values := r.Values()
	if n < 0 {
		n = 0
	}
	if n < len(values) {
		values = values[len(values)-n:]
	}
	return values
}

func (r *RingBuffer[T]) Newest() (T, bool) {
	var zero T
	if r.Len() == 0 {
		return zero, false
	}
	idx := (r.index - 1 + r.size) % r.size
	return r.values[idx], true
}
