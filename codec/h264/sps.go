/*
NAME
  sps.go

DESCRIPTION
  Parses the subset of sequence_parameter_set_rbsp fields needed to
  recover picture dimensions (ITU-T H.264 §7.3.2.1.1 / §7.4.2.1.1).

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package h264

// seqParamSet is the subset of SPS fields this package needs.
type seqParamSet struct {
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	Width  uint16
	Height uint16
}

// profilesWithChromaInfo lists profile_idc values whose SPS carries
// chroma_format_idc and the scaling-list machinery (H.264 §7.3.2.1.1).
var profilesWithChromaInfo = map[byte]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// parseSPS parses payload, the SPS NAL unit's RBSP bytes starting after
// the NAL header byte (so payload[0] is profile_idc).
func parseSPS(payload []byte) (*seqParamSet, bool) {
	if len(payload) < 3 {
		return nil, false
	}
	sps := &seqParamSet{
		ProfileIDC:      payload[0],
		ConstraintFlags: payload[1],
		LevelIDC:        payload[2],
	}

	br := newBitReader(unescape(payload[3:]))

	if _, ok := br.ue(); !ok { // seq_parameter_set_id
		return nil, false
	}

	if profilesWithChromaInfo[sps.ProfileIDC] {
		chroma, ok := br.ue()
		if !ok {
			return nil, false
		}
		if chroma == 3 {
			if _, ok := br.readBit(); !ok { // separate_colour_plane_flag
				return nil, false
			}
		}
		if _, ok := br.ue(); !ok { // bit_depth_luma_minus8
			return nil, false
		}
		if _, ok := br.ue(); !ok { // bit_depth_chroma_minus8
			return nil, false
		}
		if _, ok := br.readBit(); !ok { // qpprime_y_zero_transform_bypass_flag
			return nil, false
		}
		scalingPresent, ok := br.readBit()
		if !ok {
			return nil, false
		}
		if scalingPresent == 1 {
			n := 8
			if chroma == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				present, ok := br.readBit()
				if !ok {
					return nil, false
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if !skipScalingList(br, size) {
						return nil, false
					}
				}
			}
		}
	}

	if _, ok := br.ue(); !ok { // log2_max_frame_num_minus4
		return nil, false
	}
	picOrderCntType, ok := br.ue()
	if !ok {
		return nil, false
	}
	switch picOrderCntType {
	case 0:
		if _, ok := br.ue(); !ok { // log2_max_pic_order_cnt_lsb_minus4
			return nil, false
		}
	case 1:
		if _, ok := br.readBit(); !ok { // delta_pic_order_always_zero_flag
			return nil, false
		}
		if _, ok := br.se(); !ok { // offset_for_non_ref_pic
			return nil, false
		}
		if _, ok := br.se(); !ok { // offset_for_top_to_bottom_field
			return nil, false
		}
		numRefFrames, ok := br.ue()
		if !ok {
			return nil, false
		}
		for i := uint64(0); i < numRefFrames; i++ {
			if _, ok := br.se(); !ok {
				return nil, false
			}
		}
	}

	if _, ok := br.ue(); !ok { // max_num_ref_frames
		return nil, false
	}
	if _, ok := br.readBit(); !ok { // gaps_in_frame_num_value_allowed_flag
		return nil, false
	}
	widthMBs, ok := br.ue() // pic_width_in_mbs_minus1
	if !ok {
		return nil, false
	}
	heightMapUnits, ok := br.ue() // pic_height_in_map_units_minus1
	if !ok {
		return nil, false
	}
	frameMBSOnly, ok := br.readBit()
	if !ok {
		return nil, false
	}
	if frameMBSOnly == 0 {
		if _, ok := br.readBit(); !ok { // mb_adaptive_frame_field_flag
			return nil, false
		}
	}
	if _, ok := br.readBit(); !ok { // direct_8x8_inference_flag
		return nil, false
	}
	cropFlag, ok := br.readBit()
	if !ok {
		return nil, false
	}
	var cropLeft, cropRight, cropTop, cropBottom uint64
	if cropFlag == 1 {
		if cropLeft, ok = br.ue(); !ok {
			return nil, false
		}
		if cropRight, ok = br.ue(); !ok {
			return nil, false
		}
		if cropTop, ok = br.ue(); !ok {
			return nil, false
		}
		if cropBottom, ok = br.ue(); !ok {
			return nil, false
		}
	}

	frameHeightFactor := uint64(2)
	if frameMBSOnly == 1 {
		frameHeightFactor = 1
	}
	width := (widthMBs + 1) * 16
	height := (heightMapUnits + 1) * frameHeightFactor * 16

	cropUnitX := uint64(2)
	cropUnitY := uint64(2) * frameHeightFactor
	width -= (cropLeft + cropRight) * cropUnitX
	height -= (cropTop + cropBottom) * cropUnitY

	sps.Width = uint16(width)
	sps.Height = uint16(height)
	return sps, true
}

func skipScalingList(br *bitReader, size int) bool {
	lastScale, nextScale := int64(8), int64(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, ok := br.se()
			if !ok {
				return false
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return true
}
