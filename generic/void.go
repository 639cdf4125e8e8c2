package generic

// Void is an empty type, for when a type parameter is required but no value is meaningful.
type Void = struct{}

// NewVoid creates the only possible Void value.
func NewVoid() Void {
	return Void{}
}
