package broker

import "github.com/redis/go-redis/v9"

// The scripts below are the only writers of the queue keys. Keeping the
// mutations in Redis-side Lua makes every state move atomic across
// concurrent workers.

// enqueueScript creates the entry hash and adds the job to waiting.
// A pre-existing hash means the job is already live in this queue and
// the enqueue is deduplicated.
//
// KEYS: entry hash, waiting zset, seq counter
// ARGV: job id, payload json, priority, now ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'payload', ARGV[2],
  'priority', ARGV[3],
  'attempts', 0,
  'enqueued_at_ms', ARGV[4],
  'next_attempt_ms', ARGV[4])
local seq = redis.call('INCR', KEYS[3])
local score = (100 - tonumber(ARGV[3])) * 2^40 + seq
redis.call('ZADD', KEYS[2], score, ARGV[1])
return 1
`)

// claimScript promotes due scheduled entries and lapsed active entries
// back into waiting, then pops the lowest-scored waiting entry into
// active with the caller's visibility deadline. Returns the job id or
// false when nothing is due.
//
// KEYS: waiting, scheduled, active, seq
// ARGV: now ms, visibility deadline ms, entry key prefix
var claimScript = redis.NewScript(`
local function requeue(id)
  local prio = tonumber(redis.call('HGET', ARGV[3] .. id, 'priority') or '50')
  local seq = redis.call('INCR', KEYS[4])
  redis.call('ZADD', KEYS[1], (100 - prio) * 2^40 + seq, id)
end

local lapsed = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 50)
for _, id in ipairs(lapsed) do
  redis.call('ZREM', KEYS[3], id)
  requeue(id)
end

local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 50)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  requeue(id)
end

local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
  return false
end
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), popped[1])
return popped[1]
`)

// ackScript settles a claimed entry into completed and starts the
// retention clock on its hash. The completed set is capped by count and
// age so it cannot grow without bound.
//
// KEYS: active, completed, entry hash
// ARGV: job id, now ms, retention seconds, max completed
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
redis.call('EXPIRE', KEYS[3], tonumber(ARGV[3]))
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', tonumber(ARGV[2]) - tonumber(ARGV[3]) * 1000)
local n = redis.call('ZCARD', KEYS[2])
local max = tonumber(ARGV[4])
if n > max then
  redis.call('ZREMRANGEBYRANK', KEYS[2], 0, n - max - 1)
end
return 1
`)

// nackScript records a failed delivery. Under the attempt budget the
// entry is parked in scheduled with exponential backoff (base * 2^(n-1));
// at the budget it moves to dead and its hash expires after the
// tombstone retention. Returns attempts made, negated when the entry
// was dead-lettered.
//
// KEYS: active, scheduled, dead, entry hash
// ARGV: job id, now ms, max attempts, backoff base ms, dead retention seconds
var nackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('EXISTS', KEYS[4]) == 0 then
  return 0
end
local attempts = redis.call('HINCRBY', KEYS[4], 'attempts', 1)
if attempts >= tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
  redis.call('EXPIRE', KEYS[4], tonumber(ARGV[5]))
  return -attempts
end
local delay = tonumber(ARGV[4]) * 2^(attempts - 1)
local next = tonumber(ARGV[2]) + delay
redis.call('HSET', KEYS[4], 'next_attempt_ms', next)
redis.call('ZADD', KEYS[2], next, ARGV[1])
return attempts
`)

// removeScript evicts a not-yet-claimed entry. Active entries are left
// untouched so a racing worker keeps a consistent view.
//
// KEYS: waiting, scheduled, entry hash
// ARGV: job id
var removeScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed > 0 then
  redis.call('DEL', KEYS[3])
  return 1
end
return 0
`)
