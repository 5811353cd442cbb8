// Package app wires the ledger worker together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, a YAML file and LEDGER_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the store and apply migrations
//	4. Build the credential manager, ledger and ranking engines
//	5. Connect the operation queue and start both dispatchers
//	6. Start the periodic ranking refresh
//	7. Serve HTTP until SIGINT or SIGTERM
//
// # Graceful Shutdown
//
// Stop drains in reverse order: the HTTP server first, then the scheduler,
// the dispatchers, the websocket hub, the queue and finally the store and
// telemetry exporters. Errors never call os.Exit; they are returned to main.
package app
