package mp4file

import "github.com/tetsuo/corestream"

// wrapProtected renames entry's type to its "encv"/"enca" protected form and
// inserts a sinf box describing the original format and scheme, per
// spec §6.5. The original sample entry type is preserved in frma so a
// conformant reader can reverse the rename.
func wrapProtected(entry *mp4.Box, enc *EncryptionConfig) *mp4.Box {
	original := entry.Type

	if enc.KID == ([16]byte{}) {
		enc.KID = NewDefaultKID()
	}

	protectedType := mp4.TypeEncv
	if original == mp4.TypeMp4a {
		protectedType = mp4.TypeEnca
	}
	entry.Type = protectedType

	sinf := mp4.NewBox(mp4.TypeSinf)

	frma := mp4.NewBox(mp4.TypeFrma)
	frma.Frma = &mp4.Frma{DataFormat: original}
	sinf.Append(frma)

	schm := mp4.NewBox(mp4.TypeSchm)
	schm.Schm = &mp4.Schm{SchemeType: [4]byte{'c', 'b', 'c', 's'}, SchemeVersion: 0x00010000}
	sinf.Append(schm)

	schi := mp4.NewBox(mp4.TypeSchi)
	tenc := mp4.NewBox(mp4.TypeTenc)
	tenc.Tenc = &mp4.Tenc{
		DefaultCryptByteBlock: enc.CryptByteBlock,
		DefaultSkipByteBlock:  enc.SkipByteBlock,
		DefaultIsProtected:    1,
		DefaultKID:            enc.KID,
	}
	if len(enc.ConstantIV) > 0 {
		tenc.Tenc.DefaultPerSampleIVSize = 0
		tenc.Tenc.DefaultConstantIV = enc.ConstantIV
	} else {
		tenc.Tenc.DefaultPerSampleIVSize = 8
	}
	schi.Append(tenc)
	sinf.Append(schi)

	switch protectedType {
	case mp4.TypeEncv:
		entry.Visual.Children = append(entry.Visual.Children, sinf)
	case mp4.TypeEnca:
		entry.Audio.Children = append(entry.Audio.Children, sinf)
	}
	return entry
}
