/*
Package monitor supervises child hooks that run as separate processes.

A Monitor starts a binary with its argument list, mirrors its output to a
log file and, unless silent, to the parent's own stdout and stderr, and
restarts it when it exits, up to MaxRestarts times. Lifecycle transitions
are delivered to handlers registered with On:

	m := monitor.New(bin, args, monitor.Options{MaxRestarts: 10, LogFile: "./forever-echo-a"})
	m.On(monitor.SignalStart, func(e monitor.Event) { ... })
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop()

Stop sends SIGTERM and escalates to SIGKILL after StopTimeout.
*/
package monitor
