/*
Package peerwire is the networking core of a BitTorrent client. A single goroutine runs a Reactor
that multiplexes a listening socket, inbound handshakes, established peer connections and tracker
connections over one edge-triggered readiness source, and routes decoded peer messages to the
Torrents registered with a Client.

Simple example:

	cl, _ := peerwire.NewClient(peerwire.NewDefaultConfig())
	defer cl.Close()
	cl.AddTorrentFromFile("ubuntu.torrent", storage.NewFile("downloads"))
	r, _ := peerwire.Listen(cl)
	defer r.Close()
	r.Run(ctx)
*/
package peerwire
