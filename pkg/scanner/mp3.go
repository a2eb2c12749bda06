package scanner

import (
	"errors"
	"io"
	"os"
)

var errNoFrame = errors.New("no mpeg frame found")

// mpeg1Layer3Bitrates 是 MPEG-1 Layer III 的码率表，单位 kbps
var mpeg1Layer3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// mpeg2Layer3Bitrates 是 MPEG-2/2.5 Layer III 的码率表
var mpeg2Layer3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

type mp3Quality struct {
	Bitrate    int // kbps
	DurationMs int64
}

// readMP3Quality 跳过 ID3v2 标签后找到第一个 MPEG 帧，按帧头码率估算时长
func readMP3Quality(path string) (*mp3Quality, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	header := make([]byte, 10)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	var audioStart int64
	if string(header[0:3]) == "ID3" {
		audioStart = 10 + (int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9]))
	}

	// 只在前 64KB 里找帧头
	buf := make([]byte, 64*1024)
	n, err := f.ReadAt(buf, audioStart)
	if err != nil && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] != 0xFF || buf[i+1]&0xE0 != 0xE0 {
			continue
		}
		version := (buf[i+1] >> 3) & 0x03
		layer := (buf[i+1] >> 1) & 0x03
		bitrateIdx := (buf[i+2] >> 4) & 0x0F
		if layer != 1 || version == 1 {
			continue
		}
		var kbps int
		if version == 3 {
			kbps = mpeg1Layer3Bitrates[bitrateIdx]
		} else {
			kbps = mpeg2Layer3Bitrates[bitrateIdx]
		}
		if kbps == 0 {
			continue
		}
		q := &mp3Quality{Bitrate: kbps}
		if audioSize := stat.Size() - audioStart - int64(i); audioSize > 0 {
			q.DurationMs = audioSize * 8 / int64(kbps)
		}
		return q, nil
	}
	return nil, errNoFrame
}
