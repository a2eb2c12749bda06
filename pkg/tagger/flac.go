package tagger

import (
	"strconv"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/yleoer/musicapi/pkg/track"
)

func (t *Tagger) writeFLAC(path string, meta *track.Metadata, cover *coverArt) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return &MetadataError{Message: "failed to parse flac file", Original: err}
	}

	// 旧的注释块和图片块整体替换
	kept := make([]*flac.MetaDataBlock, 0, len(f.Meta))
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture {
			kept = append(kept, block)
		}
	}
	f.Meta = kept

	comment := flacvorbis.New()
	for _, field := range vorbisFields(meta) {
		if err := comment.Add(field[0], field[1]); err != nil {
			return &MetadataError{Message: "failed to add vorbis field " + field[0], Original: err}
		}
	}
	commentBlock := comment.Marshal()
	f.Meta = append(f.Meta, &commentBlock)

	if cover != nil {
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", cover.data, cover.mime)
		if err != nil {
			t.logger.Printf("  -> WARN: cover art rejected: %v", err)
		} else {
			pictureBlock := picture.Marshal()
			f.Meta = append(f.Meta, &pictureBlock)
		}
	}

	if err := f.Save(path); err != nil {
		return &MetadataError{Message: "failed to save flac file", Original: err}
	}
	return nil
}

func vorbisFields(meta *track.Metadata) [][2]string {
	c := meta.Credits
	var fields [][2]string
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, [2]string{key, value})
		}
	}
	add(flacvorbis.FIELD_TITLE, meta.Name)
	for _, a := range meta.Artists {
		add(flacvorbis.FIELD_ARTIST, a)
	}
	add(flacvorbis.FIELD_ALBUM, meta.Album)
	add("ALBUMARTIST", meta.AlbumArtist)
	add(flacvorbis.FIELD_TRACKNUMBER, intString(meta.TrackNumber))
	add("TRACKTOTAL", intString(meta.TrackTotal))
	add("DISCNUMBER", intString(meta.DiscNumber))
	add(flacvorbis.FIELD_GENRE, meta.Genre)
	add(flacvorbis.FIELD_ORGANIZATION, meta.Publisher)
	add(flacvorbis.FIELD_DATE, meta.ReleaseDate)
	add("ORIGINALDATE", meta.ReleaseDate)
	add("COMPOSER", c.Composer)
	add("LYRICIST", c.Lyricist)
	add("ARRANGER", c.Arranger)
	add("PRODUCER", c.Producer)
	add("MIXER", c.MixingEngineer)
	add("MASTERINGENGINEER", c.MasteringEngineer)
	if c.BPM > 0 {
		add("BPM", strconv.Itoa(c.BPM))
	}
	add("LYRICS", meta.FullLyrics())
	return fields
}
