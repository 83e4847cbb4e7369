// Package client is the application side of the subscription license system.
//
// OnlineClient speaks the license server's HTTP API. Manager builds the local
// state machine on top of it: a trial that starts on first launch, an active
// license cached for offline use, checkout with polling until the payment
// lands, and deactivation.
//
// # Quick Start
//
//	deviceID, _ := client.GenerateDeviceID()
//	path, _ := client.DefaultStatePath("myapp")
//	m := client.NewManager(
//	    client.NewOnlineClient("https://license.example.com", client.WithDeviceID(deviceID)),
//	    client.NewStateFile(path),
//	)
//	defer m.Close()
//	state, err := m.Open(ctx)
//
// # Receipts
//
// When the server signs its verdicts, pass the server's public key so a
// hand-edited state file cannot unlock the application:
//
//	v, err := license.NewReceiptVerifier(pubKeyBase64)
//	m := client.NewManager(c, file, client.WithReceiptVerifier(v))
package client
