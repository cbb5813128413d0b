// Command usbstream inspects and edits USB mass-storage devices, or disk
// images standing in for them, through a single-block write-back stream.
//
//	usbstream list
//	usbstream info --bus 1 --dev 7
//	usbstream mbr --image disk.img
//	usbstream read --partition 1 --offset 0 --length 512
//	usbstream write --image disk.img --offset 4096 --data "hello"
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ardnew/usbstream/pkg/prof"
)

func main() {
	err := newRootCmd().Execute()
	if err = errors.Join(err, prof.Stop()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
