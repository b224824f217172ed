// Package simulation provides a multi-replicate test harness for validating
// the emergent dynamics of the stochastic engine.
//
// The harness exercises the real lattice, reaction catalog, scheduler and
// SQLite run store. No mocks. Scenarios are Go builders that adjust a
// configuration and run it over a fixed list of seeds, capturing trajectory
// samples and invariant checks for property-based assertions.
//
// Each test gets an isolated SQLite database via t.TempDir() and a sandboxed
// HOME to prevent touching user data.
//
// Usage:
//
//	func TestResistanceEmerges(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:            "reference-therapy",
//	        Seeds:           simulation.SeedRange(1, 64),
//	        CheckEveryEvent: true,
//	    })
//	    simulation.AssertCapacityRespected(t, result)
//	    simulation.AssertResistantShareIncreased(t, result)
//	}
package simulation
