// Package hub is the in-process host for bus integrations.
//
// A Hub keeps the list of config entries (one per configured integration
// instance), drives their setup and unload through the Integration
// interface, and owns the device registry integrations register into.
//
// Background work started by integrations goes through CreateTask so that
// BlockTillDone can wait for it to settle:
//
//	h := hub.New(hub.Options{Devices: registry, Logger: log})
//	_ = h.RegisterIntegration(lcn.New(lcn.Options{...}))
//
//	if err := h.Load(ctx); err != nil {
//	    return err
//	}
//	_ = h.SetupAll(ctx)
//	_ = h.BlockTillDone(ctx)
//
// Entry states follow not_loaded -> setup_in_progress -> loaded, with
// setup_retry for transient failures (errors wrapping ErrEntryNotReady)
// and setup_error for everything else.
package hub
