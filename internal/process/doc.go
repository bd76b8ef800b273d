// Package process runs a helper program that halirc feeds through stdin,
// such as osd_cat showing text on the television.
//
// Features:
//   - Start/stop with graceful shutdown of the whole process group
//   - Line writes to the process stdin
//   - Closing the input ends the run without counting as a failure
//   - Optional restart when the process dies while its input is open
//   - Log capture from subprocess stdout/stderr
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig(
//	    "osd_cat", "/usr/bin/osd_cat", []string{"--lines=1"},
//	))
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	mgr.Write("Volume 40")
//	mgr.CloseInput()
package process
