// Package stream receives and demultiplexes the radio's binary sample
// streams.
//
// All streams share one UDP socket. Each packet names its stream id in a
// fixed header; the decoder routes it to the subscription registered for
// that id and decodes the payload per the subscription's kind (mono audio
// samples, interleaved I/Q pairs, or spectrum bins). Every subscription
// has its own delivery goroutine behind a bounded frame queue, so a
// handler that stalls sheds its own stream's oldest frames without
// delaying any other stream.
//
// Delivery is best-effort. There is no retransmission: a gap in a stream's
// sequence counter is charged to that stream's Lost counter and reception
// continues from the packet in hand, while packets arriving behind the
// counter are discarded as Stale. Packets failing header validation, and
// packets for streams nobody subscribed, are dropped without disturbing
// other streams.
package stream
