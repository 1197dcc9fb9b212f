package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry                = (*AdapterRegistry)(nil)
	_ CredentialLocker        = (*MemoryCredentialLocker)(nil)
	_ RefreshBackoffScheduler = ExponentialBackoffScheduler{}
	_ TokenCodec              = JSONTokenCodec{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
