package repositories

// AudioSource is a capture device producing mono float32 samples in [-1,1].
type AudioSource interface {
	// SampleRate is the device's native capture rate.
	SampleRate() int
	// Start begins delivering buffers to onSamples. The slice is only valid
	// for the duration of the call.
	Start(onSamples func(samples []float32)) error
	// Stop halts capture and releases the device. After Stop returns,
	// onSamples is not called again.
	Stop() error
}

// AudioSink is a playback device accepting mono float32 samples.
type AudioSink interface {
	SampleRate() int
	// Write blocks until the samples are accepted by the device.
	Write(samples []float32) error
	Close() error
}
