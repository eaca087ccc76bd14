package server

// Version is the server version reported by the welcome route. It is
// overridden at link time for release builds.
var Version = "devel"
