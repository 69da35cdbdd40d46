package coordination

import "time"

// loop is the single long-lived goroutine per ElectLeader call. Design
// Note "Leader loop blocking" (spec.md §9): rather than blocking the
// calling goroutine on the ensemble's notification primitive directly,
// a buffered channel of size 1 ("new sibling observed") decouples the
// watch callback from the loop, so a watch firing while the loop is busy
// re-checking never blocks the zk client's own event-dispatch goroutine.
func (e *election) loop() {
	defer close(e.done)
	wake := make(chan struct{}, 1)
	poke := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	poke() // always check once on entry

	for {
		select {
		case <-e.stop:
			return
		case <-e.client.fatal:
			e.setLeader(false)
			return
		case <-wake:
		}

		pred, watch, err := e.watchOnce()
		if err != nil {
			// transient read failure: retry on the same fixed interval
			// client.go's other transient-retry paths use, rather than
			// busy-looping on a persistent coordination error.
			go func() {
				select {
				case <-time.After(e.client.retryInterval):
					poke()
				case <-e.stop:
				case <-e.client.fatal:
				}
			}()
			continue
		}
		if pred == "" {
			e.setLeader(true)
			continue
		}
		e.setLeader(false)
		select {
		case <-watch:
			poke()
		case <-e.stop:
			return
		case <-e.client.fatal:
			e.setLeader(false)
			return
		}
	}
}
