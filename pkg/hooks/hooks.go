// package hooks provides ordered extension points that callers can tap into
// to change how commits are parsed and how release notes are rendered.
//
// Two invocation disciplines are supported:
//   - Waterfall: every tap receives the output of the previous tap. The seed
//     value is the default rendering and the last tap's output wins.
//   - Veto: taps are asked in order and the first tap returning true stops
//     the call. Remaining taps are not run.
//
// Registration order is part of the contract. Taps run in exactly the order
// they were registered.
package hooks

// Waterfall is a pipeline of transforms over a value of type T. Each tap is
// also handed a read-only context value of type C.
type Waterfall[T any, C any] struct {
	taps []waterfallTap[T, C]
}

type waterfallTap[T any, C any] struct {
	name string
	fn   func(T, C) T
}

// Tap registers a named transform at the end of the pipeline
func (w *Waterfall[T, C]) Tap(name string, fn func(T, C) T) {
	w.taps = append(w.taps, waterfallTap[T, C]{name: name, fn: fn})
}

// Call runs every tap in registration order starting from seed and returns
// the final value. With no taps registered, seed is returned unchanged.
func (w *Waterfall[T, C]) Call(seed T, ctx C) T {
	value := seed
	for _, tap := range w.taps {
		value = tap.fn(value, ctx)
	}
	return value
}

// Names returns the registered tap names in registration order
func (w *Waterfall[T, C]) Names() []string {
	names := make([]string, 0, len(w.taps))
	for _, tap := range w.taps {
		names = append(names, tap.name)
	}
	return names
}

// Veto is a list of predicates. A single true answer vetoes.
type Veto[C any] struct {
	taps []vetoTap[C]
}

type vetoTap[C any] struct {
	name string
	fn   func(C) bool
}

// Tap registers a named predicate at the end of the list
func (v *Veto[C]) Tap(name string, fn func(C) bool) {
	v.taps = append(v.taps, vetoTap[C]{name: name, fn: fn})
}

// Call returns true as soon as one tap returns true
func (v *Veto[C]) Call(ctx C) bool {
	for _, tap := range v.taps {
		if tap.fn(ctx) {
			return true
		}
	}
	return false
}

// Names returns the registered tap names in registration order
func (v *Veto[C]) Names() []string {
	names := make([]string, 0, len(v.taps))
	for _, tap := range v.taps {
		names = append(names, tap.name)
	}
	return names
}
