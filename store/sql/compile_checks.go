package sqlstore

import "github.com/goliatone/go-banklink/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.AccountStore           = (*AccountStore)(nil)
	_ core.AccountStore           = (*CachedAccountStore)(nil)
	_ core.TransactionStore       = (*TransactionStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
