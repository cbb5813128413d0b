// Package prof captures pprof profiles around one run of the usbstream
// command. Capturing is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/usbstream
//	usbstream read --length 1048576 --cpu-profile cpu.prof --heap-profile heap.prof
//
// Without the tag, [Start] rejects any requested profile with
// [ErrNotEnabled] and [Stop] does nothing.
//
// A run is bracketed by [Start] and [Stop]. Start begins CPU sampling and,
// when a block profile is requested, block sampling; Stop ends sampling and
// writes the snapshot profiles. With Listen set, the handlers of
// [net/http/pprof] are served on that address until Stop.
package prof
