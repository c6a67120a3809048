package chain

// PredictionMarketABI lists the events emitted by the PredictionMarket
// contract. Only events are needed for indexing.
const PredictionMarketABI = `[
  {"type":"event","name":"MarketCreated","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"creator","type":"address","indexed":true},
    {"name":"question","type":"string","indexed":false},
    {"name":"category","type":"string","indexed":false},
    {"name":"endTime","type":"uint256","indexed":false},
    {"name":"marketType","type":"uint8","indexed":false}]},
  {"type":"event","name":"PredictionMade","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"side","type":"uint8","indexed":false},
    {"name":"outcomeIndex","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"MarketResolved","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"winningOutcome","type":"uint8","indexed":false},
    {"name":"winningOutcomeIndex","type":"uint256","indexed":false},
    {"name":"totalPayout","type":"uint256","indexed":false}]},
  {"type":"event","name":"PayoutClaimed","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"ReputationUpdated","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"newScore","type":"uint256","indexed":false},
    {"name":"streak","type":"uint256","indexed":false}]},
  {"type":"event","name":"UsernameSet","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"username","type":"string","indexed":false}]},
  {"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
    {"name":"previousOwner","type":"address","indexed":true},
    {"name":"newOwner","type":"address","indexed":true}]}
]`
