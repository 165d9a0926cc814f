// Package harness runs cart scenarios as executable contract tests.
//
// A scenario drives a repository and expiry scheduler over an in-memory
// store with a fake clock, so time-bounded behavior is reproducible to the
// millisecond. Each step records the cartUpdated events it caused, the
// discounts it expired and the resulting cart, and the trace can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: nineteen_minute_expiry
//	description: "A discount added 19 minutes ago expires after 61 seconds"
//	window: 20m
//	seed:
//	  - id: "1"
//	    price: "10.00"
//	    quantity: 2
//	    discount_percent: 20
//	    added_ago: 19m
//	steps:
//	  - op: advance
//	    duration: 61s
//	  - op: tick
//	    expect:
//	      fired: ["1"]
//	      totals: { discounted_total: "20.00" }
//	assertions:
//	  - type: item
//	    id: "1"
//	    discount_percent: 0
//
// # Step Operations
//
//   - add: item {id, title, price, quantity, discount_percent}
//   - set_quantity: id, quantity
//   - remove, strip: id
//   - grant: id, percent
//   - clear
//   - advance: duration (fake clock only, no evaluation)
//   - tick: one scheduler evaluation
//   - reload: new repository and scheduler over the same store
//   - fail_writes, heal: toggle store write failures
//   - retry: re-persist after a failed write
//
// # Assertions
//
//   - item: id present, optional quantity/discount_percent/price match
//   - item_absent: id not in the cart
//   - event_count: total cartUpdated events equal count
//   - persisted_items: the store holds count items
//
// # Golden Files
//
// Traces are stored in testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
