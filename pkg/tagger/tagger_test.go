package tagger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/yleoer/musicapi/pkg/track"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func pngCover(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func coverServer(t *testing.T) *httptest.Server {
	data := pngCover(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleMetadata(coverURL string) *track.Metadata {
	return &track.Metadata{
		Name:        "晴天",
		Artists:     []string{"周杰伦"},
		Album:       "叶惠美",
		AlbumArtist: "周杰伦",
		CoverURL:    coverURL,
		TrackNumber: 3,
		TrackTotal:  11,
		DiscNumber:  1,
		Genre:       "Pop",
		Publisher:   "JVR Music",
		ReleaseDate: "2003-07-31",
		Lyric:       "[00:01.00]故事的小黄花",
		Credits: track.Credits{
			Composer: "周杰伦",
			Lyricist: "周杰伦",
			Producer: "周杰伦",
			BPM:      69,
		},
	}
}

// minimalFLAC 只包含 STREAMINFO 块，10 秒 44.1kHz 双声道 16bit
func minimalFLAC() []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write([]byte{0x80, 0x00, 0x00, 0x22})
	info := make([]byte, 34)
	binary.BigEndian.PutUint16(info[0:], 4096)
	binary.BigEndian.PutUint16(info[2:], 4096)
	packed := uint64(44100)<<44 | uint64(1)<<41 | uint64(15)<<36 | uint64(441000)
	binary.BigEndian.PutUint64(info[10:], packed)
	buf.Write(info)
	return buf.Bytes()
}

func TestWriteMP3(t *testing.T) {
	srv := coverServer(t)
	path := filepath.Join(t.TempDir(), "周杰伦 - 晴天 叶惠美.mp3")
	audio := append([]byte{0xFF, 0xFB, 0x90, 0x00}, make([]byte, 413)...)
	if err := os.WriteFile(path, audio, 0644); err != nil {
		t.Fatal(err)
	}

	tg := NewTagger("ffmpeg", 5*time.Second, testLogger())
	if err := tg.Write(context.Background(), path, sampleMetadata(srv.URL+"/cover.png")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tag.Close()

	if got := tag.Title(); got != "晴天" {
		t.Errorf("title = %q", got)
	}
	if got := tag.Artist(); got != "周杰伦" {
		t.Errorf("artist = %q", got)
	}
	for id, want := range map[string]string{
		"TRCK": "3/11",
		"TPOS": "1",
		"TDRC": "2003-07-31",
		"TPUB": "JVR Music",
		"TBPM": "69",
		"TCOM": "周杰伦",
	} {
		if got := tag.GetTextFrame(id).Text; got != want {
			t.Errorf("%s = %q, want %q", id, got, want)
		}
	}
	if got := tag.GetTextFrame("TPE4").Text; got != "" {
		t.Errorf("absent arranger should be omitted, got %q", got)
	}
	if frames := tag.GetFrames("TYER"); len(frames) != 0 {
		t.Errorf("ID3v2.4 tag should carry the date in TDRC only, got TYER %v", frames)
	}

	lyrics := tag.GetFrames("USLT")
	if len(lyrics) != 1 {
		t.Fatalf("USLT frames = %d", len(lyrics))
	}
	if uslt, ok := lyrics[0].(id3v2.UnsynchronisedLyricsFrame); !ok || !strings.Contains(uslt.Lyrics, "故事的小黄花") {
		t.Errorf("unexpected lyrics frame %#v", lyrics[0])
	}

	pics := tag.GetFrames("APIC")
	if len(pics) != 1 {
		t.Fatalf("APIC frames = %d", len(pics))
	}
	if pic, ok := pics[0].(id3v2.PictureFrame); !ok || pic.MimeType != "image/png" {
		t.Errorf("unexpected picture frame %#v", pics[0])
	}
}

func TestWriteMP3Twice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp3")
	if err := os.WriteFile(path, make([]byte, 128), 0644); err != nil {
		t.Fatal(err)
	}
	tg := NewTagger("ffmpeg", time.Second, testLogger())
	meta := sampleMetadata("")
	for i := 0; i < 2; i++ {
		if err := tg.Write(context.Background(), path, meta); err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()
	if n := len(tag.GetFrames("TIT2")); n != 1 {
		t.Errorf("TIT2 frames = %d, want 1", n)
	}
}

func TestWriteFLAC(t *testing.T) {
	srv := coverServer(t)
	path := filepath.Join(t.TempDir(), "周杰伦 - 晴天 叶惠美 [M].flac")
	if err := os.WriteFile(path, minimalFLAC(), 0644); err != nil {
		t.Fatal(err)
	}

	tg := NewTagger("ffmpeg", 5*time.Second, testLogger())
	meta := sampleMetadata(srv.URL + "/cover.png")
	meta.Artists = []string{"周杰伦", "费玉清"}
	if err := tg.Write(context.Background(), path, meta); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// 第二次写入应替换而不是追加
	if err := tg.Write(context.Background(), path, meta); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	f, err := flac.ParseFile(path)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	var comments, pictures int
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			comments++
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				t.Fatalf("parse comment: %v", err)
			}
			assertVorbis(t, cmt, flacvorbis.FIELD_TITLE, "晴天")
			assertVorbis(t, cmt, flacvorbis.FIELD_ALBUM, "叶惠美")
			assertVorbis(t, cmt, flacvorbis.FIELD_TRACKNUMBER, "3")
			assertVorbis(t, cmt, "TRACKTOTAL", "11")
			assertVorbis(t, cmt, flacvorbis.FIELD_ORGANIZATION, "JVR Music")
			artists, _ := cmt.Get(flacvorbis.FIELD_ARTIST)
			if len(artists) != 2 {
				t.Errorf("ARTIST values = %v", artists)
			}
			if v, _ := cmt.Get("ARRANGER"); len(v) != 0 {
				t.Errorf("absent arranger should be omitted, got %v", v)
			}
		case flac.Picture:
			pictures++
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err != nil {
				t.Fatalf("parse picture: %v", err)
			}
			if pic.MIME != "image/png" {
				t.Errorf("picture mime = %q", pic.MIME)
			}
		}
	}
	if comments != 1 || pictures != 1 {
		t.Errorf("comment blocks = %d, picture blocks = %d, want 1 and 1", comments, pictures)
	}

	info, err := f.GetStreamInfo()
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.SampleRate != 44100 {
		t.Errorf("stream info lost, sample rate = %d", info.SampleRate)
	}
}

func assertVorbis(t *testing.T, cmt *flacvorbis.MetaDataBlockVorbisComment, key, want string) {
	t.Helper()
	got, err := cmt.Get(key)
	if err != nil || len(got) != 1 || got[0] != want {
		t.Errorf("%s = %v (err %v), want %q", key, got, err, want)
	}
}

func TestCoverFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.mp3")
	if err := os.WriteFile(path, make([]byte, 64), 0644); err != nil {
		t.Fatal(err)
	}
	tg := NewTagger("ffmpeg", time.Second, testLogger())
	if err := tg.Write(context.Background(), path, sampleMetadata(srv.URL)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestWriteErrors(t *testing.T) {
	dir := t.TempDir()
	tg := NewTagger(filepath.Join(dir, "no-ffmpeg"), time.Second, testLogger())

	err := tg.Write(context.Background(), filepath.Join(dir, "missing.mp3"), sampleMetadata(""))
	var me *MetadataError
	if !errors.As(err, &me) {
		t.Errorf("missing file: error = %v, want *MetadataError", err)
	}

	broken := filepath.Join(dir, "broken.flac")
	if err := os.WriteFile(broken, []byte("not a flac"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tg.Write(context.Background(), broken, sampleMetadata("")); !errors.As(err, &me) {
		t.Errorf("broken flac: error = %v, want *MetadataError", err)
	}

	m4a := filepath.Join(dir, "a.m4a")
	if err := os.WriteFile(m4a, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tg.Write(context.Background(), m4a, sampleMetadata("")); !errors.As(err, &me) {
		t.Errorf("missing ffmpeg: error = %v, want *MetadataError", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.tagging.m4a")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	meta := &track.Metadata{Name: "Song", Artists: []string{"A", "B"}, TrackNumber: 2}
	got := strings.Join(buildFFmpegArgs("in.m4a", "out.m4a", meta), " ")
	want := "-y -i in.m4a -map 0 -c copy -metadata title=Song -metadata artist=A、B -metadata track=2 out.m4a"
	if got != want {
		t.Errorf("args = %q\nwant   %q", got, want)
	}
}
