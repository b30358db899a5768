// Package channel keeps push feeds connected and turns their frames into
// typed events.
//
// # Feeds
//
// A session holds up to three kinds of feed, each on its own connection:
//
//	dashboard        /ws/conversas_dashboard/     conversation_updated
//	presence         /ws/user_status/             user_status_update
//	conversation:ID  /ws/conversations/{id}/      new_message
//
// The Manager owns them by name. A failing feed never affects another.
//
// # Lifecycle
//
//	Connecting -> Open -> Closed -> (reconnect_delay) -> Connecting ...
//	any state  -> ClosedFinal on Close or context cancellation
//
// Retries are unlimited with a fixed delay. The credential rides on the dial
// header; nothing is sent after the handshake.
//
// # Repair after reconnect
//
// Frames sent while a feed was down are lost. When a feed re-opens after a
// drop, Endpoint.OnReconnect runs before any further frame is dispatched. The
// session uses it to refetch the feed's collection and reconcile the store,
// so the result equals a view that never disconnected.
//
// # Frame handling
//
// Frames are dispatched in arrival order on the channel goroutine. A frame
// that fails to parse is logged at debug, counted and dropped. A frame whose
// entity payload is byte-identical to one already delivered inside the
// dedupe window is dropped before dispatch. Updates that keep updated_at or
// created_at but change content still go through.
package channel
