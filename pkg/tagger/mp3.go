package tagger

import (
	"strings"

	"github.com/bogem/id3v2/v2"

	"github.com/yleoer/musicapi/pkg/track"
)

func (t *Tagger) writeMP3(path string, meta *track.Metadata, cover *coverArt) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		tag, err = id3v2.Open(path, id3v2.Options{Parse: false})
		if err != nil {
			return &MetadataError{Message: "failed to open mp3 file", Original: err}
		}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	for _, f := range id3Frames(meta) {
		tag.DeleteFrames(f.id)
		tag.AddTextFrame(f.id, id3v2.EncodingUTF8, f.value)
	}

	if lyrics := meta.FullLyrics(); lyrics != "" {
		tag.DeleteFrames("USLT")
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "chi",
			ContentDescriptor: "",
			Lyrics:            lyrics,
		})
	}

	if cover != nil {
		tag.DeleteFrames("APIC")
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    cover.mime,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover.data,
		})
	}

	if err := tag.Save(); err != nil {
		return &MetadataError{Message: "failed to save mp3 tags", Original: err}
	}
	return nil
}

type textFrame struct {
	id    string
	value string
}

// id3Frames 列出要写入的文本帧，空值不写
func id3Frames(meta *track.Metadata) []textFrame {
	c := meta.Credits
	candidates := []textFrame{
		{"TIT2", meta.Name},
		{"TPE1", meta.ArtistString()},
		{"TALB", meta.Album},
		{"TPE2", meta.AlbumArtist},
		{"TRCK", trackString(meta.TrackNumber, meta.TrackTotal)},
		{"TPOS", intString(meta.DiscNumber)},
		{"TCON", meta.Genre},
		{"TPUB", meta.Publisher},
		{"TDRC", meta.ReleaseDate},
		{"TDOR", meta.ReleaseDate},
		{"TCOM", c.Composer},
		{"TEXT", c.Lyricist},
		{"TPE4", c.Arranger},
		{"TBPM", intString(c.BPM)},
		{"TIPL", involvedPeople(c)},
	}
	out := candidates[:0]
	for _, f := range candidates {
		if f.value != "" {
			out = append(out, f)
		}
	}
	return out
}

// involvedPeople 按 TIPL 的格式拼接 角色\x00姓名 对
func involvedPeople(c track.Credits) string {
	var pairs []string
	for _, p := range [][2]string{
		{"producer", c.Producer},
		{"mix", c.MixingEngineer},
		{"mastering", c.MasteringEngineer},
	} {
		if p[1] != "" {
			pairs = append(pairs, p[0], p[1])
		}
	}
	return strings.Join(pairs, "\x00")
}
