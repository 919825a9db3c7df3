package actor

// Fold runs reducer over inputs starting from state and returns the final
// state with every effect produced along the way, in order. No effect is
// executed; it exists for reducer-level tests and replay.
func Fold[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
