//go:build !whisper

package doctor

func checkWhisperBuild() Result {
	return Result{Name: "whisper", Pass: false, Detail: "built without whisper; rebuild with -tags whisper or set asr.backend = \"command\""}
}
