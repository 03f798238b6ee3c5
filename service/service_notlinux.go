//go:build !linux

package service

// defaultBatchMode is the receive mode of the game relay's tunnel socket
// when batchMode is unspecified.
//
// recvmmsg(2) is only available on Linux.
const defaultBatchMode = "no"
