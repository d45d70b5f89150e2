package app

// Version is stamped at build time via -ldflags "-X ...app.Version=".
var Version = "dev"
