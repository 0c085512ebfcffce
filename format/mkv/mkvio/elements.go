package mkvio

var (
	ElementUnknown = ElementRegister{0x0, ElementTypeUnknown, -1, "Unknown"}

	ElementVoid  = ElementRegister{0xec, ElementTypeBinary, -1, "Void"}
	ElementCRC32 = ElementRegister{0xbf, ElementTypeBinary, -1, "CRC-32"}

	ElementEBML               = ElementRegister{0x1a45dfa3, ElementTypeMaster, 0, "EBML"}
	ElementEBMLVersion        = ElementRegister{0x4286, ElementTypeUint, 1, "EBMLVersion"}
	ElementEBMLReadVersion    = ElementRegister{0x42f7, ElementTypeUint, 1, "EBMLReadVersion"}
	ElementEBMLMaxIDLength    = ElementRegister{0x42f2, ElementTypeUint, 1, "EBMLMaxIDLength"}
	ElementEBMLMaxSizeLength  = ElementRegister{0x42f3, ElementTypeUint, 1, "EBMLMaxSizeLength"}
	ElementDocType            = ElementRegister{0x4282, ElementTypeString, 1, "DocType"}
	ElementDocTypeVersion     = ElementRegister{0x4287, ElementTypeUint, 1, "DocTypeVersion"}
	ElementDocTypeReadVersion = ElementRegister{0x4285, ElementTypeUint, 1, "DocTypeReadVersion"}

	ElementSegment = ElementRegister{0x18538067, ElementTypeMaster, 0, "Segment"}

	ElementSeekHead     = ElementRegister{0x114d9b74, ElementTypeMaster, 1, "SeekHead"}
	ElementSeek         = ElementRegister{0x4dbb, ElementTypeMaster, 2, "Seek"}
	ElementSeekID       = ElementRegister{0x53ab, ElementTypeBinary, 3, "SeekID"}
	ElementSeekPosition = ElementRegister{0x53ac, ElementTypeUint, 3, "SeekPosition"}

	ElementInfo          = ElementRegister{0x1549a966, ElementTypeMaster, 1, "Info"}
	ElementSegmentUID    = ElementRegister{0x73a4, ElementTypeBinary, 2, "SegmentUID"}
	ElementTimecodeScale = ElementRegister{0x2ad7b1, ElementTypeUint, 2, "TimecodeScale"}
	ElementDuration      = ElementRegister{0x4489, ElementTypeFloat, 2, "Duration"}
	ElementDateUTC       = ElementRegister{0x4461, ElementTypeDate, 2, "DateUTC"}
	ElementTitle         = ElementRegister{0x7ba9, ElementTypeUnicode, 2, "Title"}
	ElementMuxingApp     = ElementRegister{0x4d80, ElementTypeUnicode, 2, "MuxingApp"}
	ElementWritingApp    = ElementRegister{0x5741, ElementTypeUnicode, 2, "WritingApp"}

	ElementCluster        = ElementRegister{0x1f43b675, ElementTypeMaster, 1, "Cluster"}
	ElementTimecode       = ElementRegister{0xe7, ElementTypeUint, 2, "Timecode"}
	ElementPosition       = ElementRegister{0xa7, ElementTypeUint, 2, "Position"}
	ElementPrevSize       = ElementRegister{0xab, ElementTypeUint, 2, "PrevSize"}
	ElementSimpleBlock    = ElementRegister{0xa3, ElementTypeBinary, 2, "SimpleBlock"}
	ElementBlockGroup     = ElementRegister{0xa0, ElementTypeMaster, 2, "BlockGroup"}
	ElementBlock          = ElementRegister{0xa1, ElementTypeBinary, 3, "Block"}
	ElementBlockAdditions = ElementRegister{0x75a1, ElementTypeMaster, 3, "BlockAdditions"}
	ElementBlockDuration  = ElementRegister{0x9b, ElementTypeUint, 3, "BlockDuration"}
	ElementReferenceBlock = ElementRegister{0xfb, ElementTypeInt, 3, "ReferenceBlock"}
	ElementDiscardPadding = ElementRegister{0x75a2, ElementTypeInt, 3, "DiscardPadding"}

	ElementTracks            = ElementRegister{0x1654ae6b, ElementTypeMaster, 1, "Tracks"}
	ElementTrackEntry        = ElementRegister{0xae, ElementTypeMaster, 2, "TrackEntry"}
	ElementTrackNumber       = ElementRegister{0xd7, ElementTypeUint, 3, "TrackNumber"}
	ElementTrackUID          = ElementRegister{0x73c5, ElementTypeUint, 3, "TrackUID"}
	ElementTrackType         = ElementRegister{0x83, ElementTypeUint, 3, "TrackType"}
	ElementFlagEnabled       = ElementRegister{0xb9, ElementTypeUint, 3, "FlagEnabled"}
	ElementFlagDefault       = ElementRegister{0x88, ElementTypeUint, 3, "FlagDefault"}
	ElementFlagLacing        = ElementRegister{0x9c, ElementTypeUint, 3, "FlagLacing"}
	ElementDefaultDuration   = ElementRegister{0x23e383, ElementTypeUint, 3, "DefaultDuration"}
	ElementName              = ElementRegister{0x536e, ElementTypeUnicode, 3, "Name"}
	ElementLanguage          = ElementRegister{0x22b59c, ElementTypeString, 3, "Language"}
	ElementCodecID           = ElementRegister{0x86, ElementTypeString, 3, "CodecID"}
	ElementCodecPrivate      = ElementRegister{0x63a2, ElementTypeBinary, 3, "CodecPrivate"}
	ElementCodecName         = ElementRegister{0x258688, ElementTypeUnicode, 3, "CodecName"}
	ElementCodecDelay        = ElementRegister{0x56aa, ElementTypeUint, 3, "CodecDelay"}
	ElementSeekPreRoll       = ElementRegister{0x56bb, ElementTypeUint, 3, "SeekPreRoll"}
	ElementContentEncodings  = ElementRegister{0x6d80, ElementTypeMaster, 3, "ContentEncodings"}
	ElementVideo             = ElementRegister{0xe0, ElementTypeMaster, 3, "Video"}
	ElementFlagInterlaced    = ElementRegister{0x9a, ElementTypeUint, 4, "FlagInterlaced"}
	ElementPixelWidth        = ElementRegister{0xb0, ElementTypeUint, 4, "PixelWidth"}
	ElementPixelHeight       = ElementRegister{0xba, ElementTypeUint, 4, "PixelHeight"}
	ElementDisplayWidth      = ElementRegister{0x54b0, ElementTypeUint, 4, "DisplayWidth"}
	ElementDisplayHeight     = ElementRegister{0x54ba, ElementTypeUint, 4, "DisplayHeight"}
	ElementColour            = ElementRegister{0x55b0, ElementTypeMaster, 4, "Colour"}
	ElementAudio             = ElementRegister{0xe1, ElementTypeMaster, 3, "Audio"}
	ElementSamplingFrequency = ElementRegister{0xb5, ElementTypeFloat, 4, "SamplingFrequency"}
	ElementChannels          = ElementRegister{0x9f, ElementTypeUint, 4, "Channels"}
	ElementBitDepth          = ElementRegister{0x6264, ElementTypeUint, 4, "BitDepth"}

	ElementCues        = ElementRegister{0x1c53bb6b, ElementTypeMaster, 1, "Cues"}
	ElementAttachments = ElementRegister{0x1941a469, ElementTypeMaster, 1, "Attachments"}
	ElementChapters    = ElementRegister{0x1043a770, ElementTypeMaster, 1, "Chapters"}
	ElementTags        = ElementRegister{0x1254c367, ElementTypeMaster, 1, "Tags"}
)

var registers = func() map[uint32]ElementRegister {
	m := map[uint32]ElementRegister{}
	for _, r := range []ElementRegister{
		ElementVoid, ElementCRC32,
		ElementEBML, ElementEBMLVersion, ElementEBMLReadVersion, ElementEBMLMaxIDLength, ElementEBMLMaxSizeLength,
		ElementDocType, ElementDocTypeVersion, ElementDocTypeReadVersion,
		ElementSegment,
		ElementSeekHead, ElementSeek, ElementSeekID, ElementSeekPosition,
		ElementInfo, ElementSegmentUID, ElementTimecodeScale, ElementDuration, ElementDateUTC, ElementTitle,
		ElementMuxingApp, ElementWritingApp,
		ElementCluster, ElementTimecode, ElementPosition, ElementPrevSize, ElementSimpleBlock, ElementBlockGroup,
		ElementBlock, ElementBlockAdditions, ElementBlockDuration, ElementReferenceBlock, ElementDiscardPadding,
		ElementTracks, ElementTrackEntry, ElementTrackNumber, ElementTrackUID, ElementTrackType, ElementFlagEnabled,
		ElementFlagDefault, ElementFlagLacing, ElementDefaultDuration, ElementName, ElementLanguage, ElementCodecID,
		ElementCodecPrivate, ElementCodecName, ElementCodecDelay, ElementSeekPreRoll, ElementContentEncodings,
		ElementVideo, ElementFlagInterlaced, ElementPixelWidth, ElementPixelHeight, ElementDisplayWidth,
		ElementDisplayHeight, ElementColour,
		ElementAudio, ElementSamplingFrequency, ElementChannels, ElementBitDepth,
		ElementCues, ElementAttachments, ElementChapters, ElementTags,
	} {
		m[r.ID] = r
	}
	return m
}()

// GetElementRegister returns the register of id, or one named Unknown
// carrying id.
func GetElementRegister(id uint32) ElementRegister {
	if r, ok := registers[id]; ok {
		return r
	}
	r := ElementUnknown
	r.ID = id
	return r
}
