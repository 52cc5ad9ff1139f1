package build

// Release is set via the Makefile at build time and selects between the
// three Vars a binary may be built with: "standard", "dev", or "testing".
// DEBUG gates the extra sanity checks and the panic-on-Critical behavior;
// it is always true in a "testing" build.
var (
	// Release identifies which Var branch Select should take.
	Release = "testing"

	// DEBUG toggles panic-on-Critical and other expensive sanity checks.
	DEBUG = Release == "dev" || Release == "testing"
)
