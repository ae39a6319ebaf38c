package audio

// SamplesFromBytes converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func SamplesFromBytes(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// BytesFromSamples converts 16-bit samples to little-endian PCM bytes.
func BytesFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// ResamplePCM converts 16-bit mono PCM from one sample rate to another
// using linear interpolation. Returns the input unchanged when the rates
// match or either rate is invalid.
func ResamplePCM(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return pcm
	}

	src := SamplesFromBytes(pcm)
	if len(src) == 0 {
		return nil
	}
	if len(src) == 1 {
		return BytesFromSamples(src)
	}

	outLen := int(int64(len(src)) * int64(toRate) / int64(fromRate))
	if outLen < 1 {
		outLen = 1
	}

	dst := make([]int16, outLen)
	ratio := float64(len(src)-1) / float64(outLen)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(src)-1 {
			dst[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(src[idx])
		b := float64(src[idx+1])
		dst[i] = int16(a + (b-a)*frac)
	}

	return BytesFromSamples(dst)
}

// ResampleSegment returns a copy of the segment converted to the target
// sample rate. Timing fields are preserved; only the PCM payload and the
// declared rate change.
func ResampleSegment(seg Segment, targetRate int) Segment {
	if targetRate <= 0 || seg.SampleRate == targetRate {
		return seg
	}
	out := seg
	out.PCM = ResamplePCM(seg.PCM, seg.SampleRate, targetRate)
	out.SampleRate = targetRate
	return out
}
