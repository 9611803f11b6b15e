package lobby

// Recorder receives coordinator metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	LobbyOpened()
	LobbyClosed()
	ParticipantConnected()
	ParticipantDisconnected()
	SessionStarted()
	TransitionRejected()
	RequestRejected(reason string)
	AdvertOp(op, result string)
	AdvertLost()
}

type nopRecorder struct{}

func (nopRecorder) LobbyOpened()             {}
func (nopRecorder) LobbyClosed()             {}
func (nopRecorder) ParticipantConnected()    {}
func (nopRecorder) ParticipantDisconnected() {}
func (nopRecorder) SessionStarted()          {}
func (nopRecorder) TransitionRejected()      {}
func (nopRecorder) RequestRejected(string)   {}
func (nopRecorder) AdvertOp(string, string)  {}
func (nopRecorder) AdvertLost()              {}
