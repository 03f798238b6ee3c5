package service

// defaultBatchMode is the receive mode of the game relay's tunnel socket
// when batchMode is unspecified.
const defaultBatchMode = "mmsg"
