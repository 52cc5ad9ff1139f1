package modules

// These interfaces define the modle's dependencies. Mocking implementation
// complexity can be reduced by defining each dependency as the minimum
// possible subset of the real dependency.
type (
	// Dependencies defines all of the dependencies of the module.
	Dependencies interface {
		// disrupt can be inserted in the code as a way to inject problems,
		Disrupt(string) bool
	}

	// ProdDependencies is the default, no-op Dependencies: every disrupt
	// point is inert in production. ArchiveStore uses it as its default
	// Dependencies; a test replaces it through WithDependencies.
	ProdDependencies struct{}
)

// Disrupt always returns false.
func (ProdDependencies) Disrupt(string) bool {
	return false
}
