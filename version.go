package audiencia

// Version is the client version reported on heartbeats. Release builds override it with
// -ldflags "-X github.com/aretw0/audiencia.Version=...".
var Version = "0.1.0-dev"
