package transfer

import (
	"io"
)

func CalculateTotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ChunkLength is the byte length of chunk index; only the last chunk is short.
func ChunkLength(fileSize int64, chunkSize, index int) int {
	offset := int64(index) * int64(chunkSize)
	if offset >= fileSize {
		return 0
	}
	if rem := fileSize - offset; rem < int64(chunkSize) {
		return int(rem)
	}
	return chunkSize
}

func ReadChunkData(r io.ReaderAt, chunkIndex, length, chunkSize int) ([]byte, error) {
	offset := int64(chunkIndex) * int64(chunkSize)
	data := make([]byte, length)
	n, err := r.ReadAt(data, offset)
	if err != nil && !(err == io.EOF && n == length) {
		return nil, err
	}
	return data, nil
}

func WriteChunkData(w io.WriterAt, chunkIndex, chunkSize int, data []byte) error {
	offset := int64(chunkIndex) * int64(chunkSize)
	_, err := w.WriteAt(data, offset)
	return err
}
