package consultation

func init() {
	strictTransitions = true
}
