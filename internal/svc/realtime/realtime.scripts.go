package realtime

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// KEYS[1] status key
// ARGV[1] state, ARGV[2] last_changed in ms or -1 for server time
var writeScript = redis.NewScript(`
local ms = tonumber(ARGV[2])
if ms == nil or ms < 0 then
	local t = redis.call('TIME')
	ms = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
end

redis.call('HSET', KEYS[1], 'state', ARGV[1], 'last_changed', ms)

return ms
`)

// KEYS[1] obligation hash, KEYS[2] lease
// ARGV[1] status key, ARGV[2] encoded record, ARGV[3] lease ttl in ms
var registerScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])

return 1
`)

// KEYS[1] obligation hash, KEYS[2] lease
// ARGV[1] '1' to drop the lease and fire regardless
//
// Returns -1 while the lease is alive, otherwise the number of records written.
// The obligation hash is deleted in the same call, so it fires once.
var fireScript = redis.NewScript(`
if ARGV[1] == '1' then
	redis.call('DEL', KEYS[2])
elseif redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end

local entries = redis.call('HGETALL', KEYS[1])
if #entries == 0 then
	return 0
end

redis.call('DEL', KEYS[1])

local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local n = 0
for i = 1, #entries, 2 do
	local rec = cjson.decode(entries[i + 1])
	local ms = tonumber(rec.last_changed)
	if ms == nil or ms < 0 then
		ms = now
	end

	redis.call('HSET', entries[i], 'state', rec.state, 'last_changed', ms)
	n = n + 1
end

return n
`)

func fire(ctx context.Context, client redis.UniversalClient, keys Keys, session string, force bool) (int64, error) {
	flag := "0"
	if force {
		flag = "1"
	}

	n, err := fireScript.Run(ctx, client, []string{keys.Obligation(session), keys.Lease(session)}, flag).Int64()
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, nil
	}

	return n, nil
}
