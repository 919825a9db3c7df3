package actor

// InputBase is embedded by input structs to satisfy Input.
type InputBase struct{}

func (InputBase) isActorInput() {}

// EffectBase is embedded by effect structs to satisfy Effect.
type EffectBase struct{}

func (EffectBase) isActorEffect() {}
