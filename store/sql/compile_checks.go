package sqlstore

import "github.com/nstoddard17/chainreact-app-9e-sub013/core"

var (
	_ core.CredentialStore        = (*CredentialStore)(nil)
	_ core.TriggerResourceStore   = (*TriggerResourceStore)(nil)
	_ core.AuditLogger            = (*AuditStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
