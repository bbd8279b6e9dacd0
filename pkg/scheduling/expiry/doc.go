/*
Package expiry provides a registry of deadlines that fire a callback once,
unless the registration is reset or removed first.

A Monitor scans its registrations on a fixed interval:

	monitor := expiry.New(expiry.Config{Name: "sessions", Interval: 50 * time.Millisecond})
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	h, err := monitor.RegisterFunc(30*time.Second, func() {
		log.Println("session expired")
	})

	// On activity, push the deadline out by another 30s.
	monitor.Reset(h)

A fired handle is deregistered before its callback runs, so IsRegistered
reports false from inside the callback. Reset and Remove return false for a
handle that has fired or been removed.

The work engine uses a Monitor to enforce start timeouts.
*/
package expiry
