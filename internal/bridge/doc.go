// Package bridge connects the word processor's assistant panel to the
// external assistant process.
//
// A Service owns the bridge state machine (uninitialized -> starting ->
// ready|failed), supervises the assistant launch through
// [supervisor.Supervisor], and relays commands through [channel.Channel],
// one TCP exchange per command. Launch outcomes are delivered by a
// supervised background worker, so the machine leaves Starting only once
// the OS has actually accepted or rejected the spawn.
//
// Ready means "launch accepted", not "assistant reachable": the first
// command after startup can still fail with a connect error while the
// assistant binds its port. Failed exchanges never downgrade the state
// machine; the panel may retry immediately.
//
// Lifecycle:
//
//	svc, _ := bridge.New(sup, ch, bus)
//	svc.Initialize(ctx, doc) // spawns the assistant, returns immediately
//	_ = svc.WaitReady(ctx)   // optional: block until the launch settles
//	resp, err := svc.SendCommand(ctx, "rewrite this text")
//	_ = svc.Shutdown()       // kills the assistant on teardown
package bridge
